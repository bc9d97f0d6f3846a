package seenset

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

func randomID(r *rand.Rand) packet.ID {
	b := make([]byte, 34)
	r.Read(b)
	return packet.ID(b)
}

func TestGCSSoundness(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	ids := make([]packet.ID, 200)
	for i := range ids {
		ids[i] = randomID(r)
	}

	p, _ := Params(512, 0.01)
	f, err := Build(p, ids)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, id := range ids {
		if !f.Contains(id) {
			t.Fatalf("member %s reported absent", id)
		}
	}
}

func TestGCSFalsePositiveRateBound(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	ids := make([]packet.ID, 500)
	for i := range ids {
		ids[i] = randomID(r)
	}

	targetFPR := 0.01
	p, _ := Params(1024, targetFPR)
	f, err := Build(p, ids)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	trials := 20000
	falsePositives := 0
	for i := 0; i < trials; i++ {
		candidate := randomID(r)
		isMember := false
		for _, id := range ids {
			if id.Equal(candidate) {
				isMember = true
				break
			}
		}
		if isMember {
			continue
		}
		if f.Contains(candidate) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(trials)
	if rate > 2*targetFPR {
		t.Fatalf("false positive rate %.4f exceeds 2x target %.4f", rate, targetFPR)
	}
}

func TestParamsDerivation(t *testing.T) {
	p, nMax := Params(1024, 0.01)
	if p < 1 {
		t.Fatalf("expected P >= 1, got %d", p)
	}
	expectedP := 7 // round(-log2(0.01)) == round(6.64) == 7
	if p != expectedP {
		t.Fatalf("expected P=%d for target_fpr=0.01, got %d", expectedP, p)
	}
	if nMax <= 0 {
		t.Fatalf("expected positive N_max, got %d", nMax)
	}
}

func TestValidateRejectsOversizeFilter(t *testing.T) {
	if err := Validate(MaxAcceptFilterBytes+1, 4, 100); err != ErrFilterTooLarge {
		t.Fatalf("expected ErrFilterTooLarge, got %v", err)
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	if err := Validate(10, 0, 100); err != ErrInvalidP {
		t.Fatalf("expected ErrInvalidP, got %v", err)
	}
	if err := Validate(10, 4, 0); err != ErrInvalidM {
		t.Fatalf("expected ErrInvalidM, got %v", err)
	}
}

func TestGCSEmptySet(t *testing.T) {
	f, err := Build(4, nil)
	if err != nil {
		t.Fatalf("Build with empty set: %v", err)
	}
	if f.Contains(packet.ID("anything")) {
		t.Fatal("empty filter should never report membership (modulo negligible FP chance)")
	}
}

func TestSyncReconciliationScenario(t *testing.T) {
	// S5: B holds {1..100}, A holds {1..90, 95..100} (96 IDs). B should
	// find {91..94} missing from A's filter.
	mkID := func(i int) packet.ID { return packet.ID(fmt.Sprintf("pkt-%04d", i)) }

	var aIDs []packet.ID
	for i := 1; i <= 90; i++ {
		aIDs = append(aIDs, mkID(i))
	}
	for i := 95; i <= 100; i++ {
		aIDs = append(aIDs, mkID(i))
	}

	p, _ := Params(512, 0.01)
	filter, err := Build(p, aIDs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var missing []int
	for i := 1; i <= 100; i++ {
		if !filter.Contains(mkID(i)) {
			missing = append(missing, i)
		}
	}

	want := map[int]bool{91: true, 92: true, 93: true, 94: true}
	for _, m := range missing {
		if !want[m] {
			t.Fatalf("unexpected id %d reported missing (false positive on a present check is ok, but this exceeds the known gap)", m)
		}
	}
	for w := range want {
		found := false
		for _, m := range missing {
			if m == w {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected id %d to be reported missing", w)
		}
	}
}

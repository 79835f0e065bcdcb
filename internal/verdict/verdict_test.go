package verdict

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Decision
	}{
		{"explicit approve", "Looks solid.\n\nVERDICT: APPROVE", Approve},
		{"explicit reject", "Missing error handling.\nVerdict: reject", Reject},
		{"explicit revise", "verdict - revise", Revise},
		{"bold marker", "**Verdict**: Approved", Approve},
		{"lgtm marker", "VERDICT: LGTM", Approve},
		{"bare approved line", "Reviewed the design.\n\nApproved.", Approve},
		{"bare lgtm", "LGTM", Approve},
		{"last marker wins", "VERDICT: APPROVE\n...on reflection:\nVERDICT: REJECT", Reject},
		{"no verdict", "This design introduces a cache layer.", Unknown},
		{"approve mid-sentence ignored", "I would approve this if the tests passed.", Unknown},
		{"empty", "", Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Parse(tc.text); got != tc.want {
				t.Errorf("Parse(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestApproved(t *testing.T) {
	if !Approve.Approved() {
		t.Error("Approve should clear the gate")
	}
	for _, d := range []Decision{Revise, Reject, Unknown} {
		if d.Approved() {
			t.Errorf("%q should not clear the gate", d)
		}
	}
}

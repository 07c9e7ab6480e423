package wadata

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		result Result
		want   Outcome
	}{
		{
			name:   "active contact",
			result: Result{Number: "+12025550102", Profile: &Profile{IsWAContact: true}},
			want:   OutcomeActive,
		},
		{
			name:   "profile without contact flag",
			result: Result{Number: "+12025550102", Profile: &Profile{IsWAContact: false}},
			want:   OutcomeNotPresent,
		},
		{
			name:   "not found error text",
			result: Result{Number: "+12025550102", Err: "Number not found on WhatsApp"},
			want:   OutcomeNotPresent,
		},
		{
			name:   "not registered error text",
			result: Result{Number: "+12025550102", Err: "this number is NOT REGISTERED"},
			want:   OutcomeNotPresent,
		},
		{
			name:   "generic api error",
			result: Result{Number: "+12025550102", Err: "unexpected status 500"},
			want:   OutcomeAPIError,
		},
		{
			name:   "timeout error",
			result: Result{Number: "+12025550102", Err: "context deadline exceeded"},
			want:   OutcomeAPIError,
		},
		{
			name:   "no data yet",
			result: Result{Number: "+12025550102"},
			want:   OutcomePending,
		},
		{
			name: "profile wins over error text",
			result: Result{
				Number:  "+12025550102",
				Profile: &Profile{IsWAContact: true},
				Err:     "not found",
			},
			want: OutcomeActive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.result)
			if got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
			// Classification must be stable.
			if again := Classify(tc.result); again != got {
				t.Fatalf("Classify() not stable: %q then %q", got, again)
			}
		})
	}
}

func TestOutcomeTerminal(t *testing.T) {
	if OutcomePending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	for _, o := range []Outcome{OutcomeActive, OutcomeNotPresent, OutcomeAPIError} {
		if !o.Terminal() {
			t.Fatalf("%q must be terminal", o)
		}
	}
}

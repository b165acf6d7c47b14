package serialfeed

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantTag  string
		wantVals []float64
		wantErr  bool
	}{
		{
			name:     "eeg frame",
			line:     "E,1.5,-2.25",
			wantTag:  "E",
			wantVals: []float64{1.5, -2.25},
		},
		{
			name:     "ppg frame",
			line:     "P,512,768,510",
			wantTag:  "P",
			wantVals: []float64{512, 768, 510},
		},
		{
			name:     "acc frame",
			line:     "A,0.01,-0.02,9.81",
			wantTag:  "A",
			wantVals: []float64{0.01, -0.02, 9.81},
		},
		{
			name:     "whitespace tolerated",
			line:     "  A , 1 , 2 , 3 ",
			wantTag:  "A",
			wantVals: []float64{1, 2, 3},
		},
		{
			name:    "blank line",
			line:    "   ",
			wantTag: "",
		},
		{
			name:    "status chatter",
			line:    "# battery 87%",
			wantTag: "",
		},
		{
			name:     "bare tag",
			line:     "E",
			wantTag:  "E",
			wantVals: []float64{},
		},
		{
			name:    "bad field",
			line:    "E,1.5,abc",
			wantTag: "E",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, vals, err := ParseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", tag, tt.wantTag)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.wantVals, vals, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

package ingest

import (
	"errors"
	"math"
	"testing"
	"time"

	"mag-logger/models"
)

func fixedParser() *Parser {
	p := NewParser(DefaultSensitivity)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Now = func() time.Time { return ts }
	return p
}

func TestParseConvertsToMilligauss(t *testing.T) {
	p := fixedParser()

	r, err := p.Parse("100,-200,300.5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := [3]float64{14.616, -29.231, 43.92}
	got := [3]float64{r.X, r.Y, r.Z}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("axis %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if !r.Timestamp.Equal(p.Now()) {
		t.Errorf("expected parser clock timestamp, got %v", r.Timestamp)
	}
}

func TestParseTolerance(t *testing.T) {
	p := fixedParser()

	tests := []struct {
		name string
		line string
		want error
	}{
		{"plain", "1,2,3", nil},
		{"spaces", " 1 , 2 ,\t3 ", nil},
		{"crlf", "1,2,3\r\n", nil},
		{"negative float", "-6842,6842.0,0", nil},
		{"empty", "", models.ErrNoData},
		{"whitespace", "  \t\r\n", models.ErrNoData},
		{"letters", "a,b,c", models.ErrMalformedSample},
		{"two fields", "1,2", models.ErrMalformedSample},
		{"four fields", "1,2,3,4", models.ErrMalformedSample},
		{"truncated", "12,-4", models.ErrMalformedSample},
		{"empty field", "1,,3", models.ErrMalformedSample},
		{"garbage", "\x00\xff,1,2", models.ErrMalformedSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.line)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseFullScale(t *testing.T) {
	p := fixedParser()
	r, err := p.Parse("-6842,6842,0")
	if err != nil {
		t.Fatal(err)
	}
	if r.X != -1000 || r.Y != 1000 || r.Z != 0 {
		t.Errorf("one gauss should be 1000 mG, got %+v", r)
	}
}

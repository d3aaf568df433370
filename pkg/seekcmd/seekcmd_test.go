package seekcmd

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     string
		want    SeekTo
		wantErr bool
	}{
		{"basic", "AESDCHAR_IOCSEEKTO:1,0\n", SeekTo{1, 0}, false},
		{"large values", "AESDCHAR_IOCSEEKTO:9,4294967295\n", SeekTo{9, 4294967295}, false},
		{"zero zero", "AESDCHAR_IOCSEEKTO:0,0\n", SeekTo{0, 0}, false},
		{"missing offset", "AESDCHAR_IOCSEEKTO:1\n", SeekTo{}, true},
		{"missing both", "AESDCHAR_IOCSEEKTO:\n", SeekTo{}, true},
		{"empty cmd", "AESDCHAR_IOCSEEKTO:,5\n", SeekTo{}, true},
		{"empty offset", "AESDCHAR_IOCSEEKTO:3,\n", SeekTo{}, true},
		{"extra field", "AESDCHAR_IOCSEEKTO:1,2,3\n", SeekTo{}, true},
		{"negative", "AESDCHAR_IOCSEEKTO:-1,0\n", SeekTo{}, true},
		{"hex", "AESDCHAR_IOCSEEKTO:0x1,0\n", SeekTo{}, true},
		{"trailing junk", "AESDCHAR_IOCSEEKTO:1,0 \n", SeekTo{}, true},
		{"overflow", "AESDCHAR_IOCSEEKTO:4294967296,0\n", SeekTo{}, true},
		{"not a directive", "hello\n", SeekTo{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.rec))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Parse(%q) err = %v, want ErrMalformed", tc.rec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) err = %v", tc.rec, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.rec, got, tc.want)
			}
		})
	}
}

func TestIsDirective(t *testing.T) {
	t.Parallel()

	if !IsDirective([]byte("AESDCHAR_IOCSEEKTO:1,0\n")) {
		t.Fatal("directive prefix not recognized")
	}
	if IsDirective([]byte("AESDCHAR_IOCSEEKT0:1,0\n")) {
		t.Fatal("near-miss prefix recognized")
	}
	if IsDirective([]byte("hello\n")) {
		t.Fatal("plain record recognized as directive")
	}
}

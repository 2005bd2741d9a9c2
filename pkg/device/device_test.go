package device

import "testing"

func TestVersionAtLeast(t *testing.T) {
	cases := []struct {
		version string
		major   int
		minor   int
		patch   int
		want    bool
	}{
		{"5.0.3", 5, 0, 0, true},
		{"5.0.3", 5, 0, 3, true},
		{"5.0.3", 5, 0, 4, false},
		{"5.0.3", 5, 1, 0, false},
		{"5.0.3", 6, 0, 0, false},
		{"5.0.3", 4, 9, 9, true},
		{"10.2.0", 9, 9, 9, true},
		{"3.1", 3, 1, 0, true},
		{"3.1", 3, 1, 1, false},
		{"", 0, 0, 0, true},
		{"", 0, 0, 1, false},
		{"garbage", 1, 0, 0, false},
	}
	for _, tc := range cases {
		c := Configuration{Version: tc.version}
		if got := c.VersionAtLeast(tc.major, tc.minor, tc.patch); got != tc.want {
			t.Errorf("Configuration{%q}.VersionAtLeast(%d,%d,%d) = %v, want %v",
				tc.version, tc.major, tc.minor, tc.patch, got, tc.want)
		}
	}
}

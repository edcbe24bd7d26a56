package semver

import "testing"

func TestParseHostVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"5.4.1", "5.4.1", false},
		{"5.4", "5.4.0", false},
		{"5", "5.0.0", false},
		{"v5.3.2", "5.3.2", false},
		{"5.4.1-33305258+++UE5+Release-5.4", "5.4.1", false},
		{"", "", true},
		{"release", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseHostVersion(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("semver:parser_test - expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if v.String() != tt.want {
				t.Errorf("semver:parser_test - got %s, want %s", v.String(), tt.want)
			}
		})
	}
}

func TestParseConstraint(t *testing.T) {
	for _, c := range []string{"5", ">=5.3", "^5.4.0", "~5.4.0", ">=5.1, <6"} {
		if _, err := ParseConstraint(c); err != nil {
			t.Errorf("semver:parser_test - ParseConstraint(%q): %v", c, err)
		}
	}
	for _, c := range []string{"", "not-a-version"} {
		if _, err := ParseConstraint(c); err == nil {
			t.Errorf("semver:parser_test - expected error for %q", c)
		}
	}
}

func TestValidateCommandName(t *testing.T) {
	valid := []string{"ping", "create_node", "add_pcg_node"}
	invalid := []string{"", "CreateNode", "1node", "create-node"}
	for _, n := range valid {
		if !ValidateCommandName(n) {
			t.Errorf("semver:parser_test - expected %q valid", n)
		}
	}
	for _, n := range invalid {
		if ValidateCommandName(n) {
			t.Errorf("semver:parser_test - expected %q invalid", n)
		}
	}
}

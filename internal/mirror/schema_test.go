package mirror

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAcceptsFixture(t *testing.T) {
	t.Parallel()

	if err := Validate(loadFixture(t)); err != nil {
		t.Fatalf("expected fixture to validate, got %v", err)
	}
}

func TestValidateReportsIssues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		wantPath string
	}{
		{name: "missing mirrors", data: `{"name":"binary-mirror-config"}`, wantPath: ""},
		{name: "host not string", data: `{"mirrors":{"china":{"sqlite3":{"host":1}}}}`, wantPath: "/mirrors/china/sqlite3/host"},
		{name: "env not string", data: `{"mirrors":{"china":{"ENVS":{"A":true}}}}`, wantPath: "/mirrors/china/ENVS/A"},
		{name: "env name not identifier", data: `{"mirrors":{"china":{"ENVS":{"X=1; touch /tmp/x; Y":"v"}}}}`, wantPath: "/mirrors/china/ENVS"},
		{name: "files not list", data: `{"mirrors":{"china":{"sharp":{"replaceHostFiles":"lib/x.js"}}}}`, wantPath: "/mirrors/china/sharp/replaceHostFiles"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := Validate([]byte(tc.data))
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if len(schemaErr.Issues) == 0 {
				t.Fatalf("expected at least one issue")
			}
			if tc.wantPath != "" && !strings.Contains(err.Error(), tc.wantPath) {
				t.Fatalf("expected issue at %s, got %s", tc.wantPath, err.Error())
			}
		})
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	if err := Validate([]byte(`{"mirrors":`)); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}

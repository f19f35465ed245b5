package detail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"string detail", `{"detail":"Project not found"}`, "Project not found", true},
		{"validation list", `{"detail":[{"loc":["body","email"],"msg":"field required"},{"msg":"too short"}]}`, "field required; too short", true},
		{"list item without msg", `{"detail":[{"loc":["q"]}]}`, `{"loc":["q"]}`, true},
		{"object detail", `{"detail": {"code": "LOCKED", "retry": 3}}`, `{"code":"LOCKED","retry":3}`, true},
		{"message fallback", `{"message":"upstream exploded"}`, "upstream exploded", true},
		{"detail wins over message", `{"detail":"a","message":"b"}`, "a", true},
		{"null detail uses message", `{"detail":null,"message":"b"}`, "b", true},
		{"empty object", `{}`, "", false},
		{"numeric detail", `{"detail":42}`, "", false},
		{"html body", `<html>502 Bad Gateway</html>`, "", false},
		{"empty body", ``, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse([]byte(tc.body))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	const (
		key    = "test-signing-key"
		issuer = "edutrack-test"
	)

	pair, err := Issue("stu-42", "Asha Patil", RoleStudent, issuer, key, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := Parse(pair.AccessToken, key, issuer)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "stu-42" {
		t.Errorf("Subject = %q, want stu-42", claims.Subject)
	}
	if claims.Role != RoleStudent {
		t.Errorf("Role = %q, want %q", claims.Role, RoleStudent)
	}
	if claims.Name != "Asha Patil" {
		t.Errorf("Name = %q, want Asha Patil", claims.Name)
	}

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{name: "wrong key", token: pair.AccessToken, key: "other-key", issuer: issuer},
		{name: "wrong issuer", token: pair.AccessToken, key: key, issuer: "someone-else"},
		{name: "garbage token", token: "not.a.jwt", key: key, issuer: issuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); err == nil {
				t.Error("Parse() expected an error")
			}
		})
	}
}

func TestParseRejectsExpired(t *testing.T) {
	const (
		key    = "test-signing-key"
		issuer = "edutrack-test"
	)
	pair, err := Issue("t-1", "Prof. Joshi", RoleTeacher, issuer, key, -time.Minute, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse(pair.AccessToken, key, issuer); err == nil {
		t.Error("expired token must not parse")
	}
}

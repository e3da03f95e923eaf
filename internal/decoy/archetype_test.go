package decoy

import (
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func TestArchetypeForPortClassification(t *testing.T) {
	cases := map[int]string{
		3000: "dev_server",
		8080: "dev_server",
		8123: "home_assistant",
		22:   "file_share",
		445:  "file_share",
	}
	for port, want := range cases {
		if got := archetypeForPort(port); got != want {
			t.Errorf("archetypeForPort(%d) = %q, want %q", port, got, want)
		}
	}
}

func TestFreshArchetypeEmbedsCanaryHostname(t *testing.T) {
	a := freshArchetype("dev_server")
	var envBody, canaryHost string
	for _, c := range a.credentials {
		switch c.credentialType {
		case "env_file":
			envBody = c.value
		case "dns_canary":
			canaryHost = c.canaryHostname
		}
	}
	if canaryHost == "" {
		t.Fatalf("expected a dns_canary credential")
	}
	if !contains(envBody, canaryHost) {
		t.Fatalf("expected the planted .env to reference the canary hostname %q, got %q", canaryHost, envBody)
	}
}

func TestArchetypeFromStoredReusesPersistedValues(t *testing.T) {
	fresh := freshArchetype("file_share")

	var stored []*storage.PlantedCredential
	for _, c := range fresh.credentials {
		stored = append(stored, &storage.PlantedCredential{
			CredentialType:  c.credentialType,
			CredentialValue: c.value,
			CanaryHostname:  c.canaryHostname,
			PlantedLocation: c.location,
		})
	}

	rebuilt := archetypeFromStored("file_share", stored)
	if len(rebuilt.credentials) != len(fresh.credentials) {
		t.Fatalf("expected %d credentials to round-trip, got %d", len(fresh.credentials), len(rebuilt.credentials))
	}
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

package decoy

import "github.com/rocketweb/squirrelops-sensor/internal/storage"

// devPorts/homeAutomationPorts classify an observed open port into the
// archetype most likely to blend in next to it. Anything else (including
// classic file/print-sharing ports) falls back to the file share persona.
var devPorts = map[int]bool{
	3000: true, 3001: true, 4200: true, 5000: true, 5173: true,
	8000: true, 8080: true, 9000: true, 9229: true,
}

var homeAutomationPorts = map[int]bool{
	8123: true,
}

// archetypeForPort maps one observed port to the decoy_type that should be
// deployed alongside it.
func archetypeForPort(port int) string {
	switch {
	case devPorts[port]:
		return "dev_server"
	case homeAutomationPorts[port]:
		return "home_assistant"
	default:
		return "file_share"
	}
}

// freshArchetype builds an archetype instance for decoyType with newly
// generated, never-before-used credential values.
func freshArchetype(decoyType string) archetype {
	switch decoyType {
	case "dev_server":
		canary := plantDNSCanary("dev_server", "/.env")
		return buildDevServerArchetype(plantEnvFile(canary.canaryHostname), canary)
	case "home_assistant":
		return buildHomeAssistantArchetype(plantHAToken(), plantDNSCanary("home_assistant", "/"))
	default:
		return buildFileShareArchetype(plantPasswordList(10), plantSSHKey(), plantDNSCanary("file_share", "/notes.txt"))
	}
}

// archetypeFromStored rebuilds an archetype's route table from credentials
// already persisted for a decoy, so a restart or boot-time resume serves
// the exact same planted values rather than regenerating them.
func archetypeFromStored(decoyType string, creds []*storage.PlantedCredential) archetype {
	storedCanary := func() generatedCredential {
		for _, c := range creds {
			if c.CredentialType == "dns_canary" {
				return generatedCredential{credentialType: "dns_canary", value: c.CredentialValue, canaryHostname: c.CanaryHostname, location: c.PlantedLocation}
			}
		}
		return generatedCredential{credentialType: "dns_canary"}
	}()

	switch decoyType {
	case "dev_server":
		env := generatedCredential{credentialType: "env_file", value: "# No environment configuration\n"}
		for _, c := range creds {
			if c.CredentialType == "env_file" {
				env.value = c.CredentialValue
			}
		}
		return buildDevServerArchetype(env, storedCanary)

	case "home_assistant":
		token := generatedCredential{credentialType: "ha_token"}
		for _, c := range creds {
			if c.CredentialType == "ha_token" {
				token.value = c.CredentialValue
			}
		}
		return buildHomeAssistantArchetype(token, storedCanary)

	default:
		var passwords []generatedCredential
		var sshKey generatedCredential
		for _, c := range creds {
			switch c.CredentialType {
			case "password":
				passwords = append(passwords, generatedCredential{credentialType: "password", value: c.CredentialValue})
			case "ssh_key":
				sshKey = generatedCredential{credentialType: "ssh_key", value: c.CredentialValue}
			}
		}
		return buildFileShareArchetype(passwords, sshKey, storedCanary)
	}
}

func credentialValues(a archetype) []string {
	out := make([]string, 0, len(a.credentials))
	for _, c := range a.credentials {
		out = append(out, c.value)
	}
	return out
}

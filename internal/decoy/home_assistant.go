package decoy

import "fmt"

const haAPIUnauthorized = `{"message":"Invalid access token or password"}`
const haAuthRejected = `{"error":"invalid_grant","error_description":"Invalid credentials"}`

func haLoginPage(remoteHost string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <title>Home Assistant</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
  <div class="login">
    <h1>Home Assistant</h1>
    <p>Log in to continue</p>
    <form method="POST" action="/auth/token">
      <input type="text" name="username" placeholder="Username" autocomplete="username">
      <input type="password" name="password" placeholder="Password" autocomplete="current-password">
      <button type="submit">Log in</button>
    </form>
    <p>Home Assistant 2024.1.0 &bull; hass.local</p>
    <p style="font-size: 11px; color: #666;">Remote UI: %s</p>
  </div>
</body>
</html>`, remoteHost)
}

// buildHomeAssistantArchetype mimics a Home Assistant instance's login
// page and rejects every authentication attempt while watching for a
// planted long-lived access token. The remote-UI hostname advertised on
// the login page doubles as a DNS canary.
func buildHomeAssistantArchetype(token, canary generatedCredential) archetype {
	routes := RouteTable{
		routeKey("GET", "/"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    []byte(haLoginPage(canary.canaryHostname)),
		},
		routeKey("GET", "/api/"): {
			Status:  401,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(haAPIUnauthorized),
		},
		routeKey("POST", "/auth/token"): {
			Status:  400,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(haAuthRejected),
		},
	}
	return archetype{
		decoyType:   "home_assistant",
		displayName: "Home Assistant",
		routes:      routes,
		credentials: []generatedCredential{token, canary},
	}
}

package decoy

const reactErrorPage = `<!DOCTYPE html>
<html>
<head><title>Application Error</title></head>
<body>
<div id="__next">
  <div style="font-family: -apple-system, BlinkMacSystemFont, sans-serif; padding: 20px;">
    <h2>Application error: a client-side exception has occurred</h2>
    <p style="color: #666;">See the developer console for more information.</p>
    <p style="font-size: 12px; color: #999;">
      This error occurred during page generation.
      React and Next.js development server v14.1.0
    </p>
  </div>
</div>
</body>
</html>`

const devHealthResponse = `{"status":"ok","uptime":847293,"version":"1.4.2","environment":"development"}`

// buildDevServerArchetype mimics an Express/Next.js development server: a
// crashed SSR page, a health endpoint, and a planted .env file.
func buildDevServerArchetype(env, canary generatedCredential) archetype {
	routes := RouteTable{
		routeKey("GET", "/"): {
			Status:  500,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8", "X-Powered-By": "Next.js"},
			Body:    []byte(reactErrorPage),
		},
		routeKey("GET", "/api/health"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "application/json", "X-Powered-By": "Express"},
			Body:    []byte(devHealthResponse),
		},
		routeKey("GET", "/.env"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8", "X-Powered-By": "Express"},
			Body:    []byte(env.value),
		},
	}
	return archetype{
		decoyType:   "dev_server",
		displayName: "Dev Server",
		routes:      routes,
		credentials: []generatedCredential{env, canary},
	}
}

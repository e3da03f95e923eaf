package decoy

import "fmt"

func directoryListingHTML(passwordFilename string) string {
	pad := 55 - len(passwordFilename)
	if pad < 1 {
		pad = 1
	}
	padding := ""
	for i := 0; i < pad; i++ {
		padding += " "
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Index of /</title></head>
<body>
<h1>Index of /</h1>
<hr>
<pre>
<a href="%s">%s</a>%s14-Jan-2024 03:22    1.2K
<a href=".ssh/">.ssh/</a>                                                      08-Dec-2023 19:45       -
<a href="backup/">.backup/</a>                                                 21-Nov-2023 14:12       -
<a href="notes.txt">notes.txt</a>                                              03-Feb-2024 08:30     256
</pre>
<hr>
</body>
</html>`, passwordFilename, passwordFilename, padding)
}

// buildFileShareArchetype mimics an nginx-served share directory with a
// planted passwords.txt and an SSH private key. Used as the fallback
// archetype when observed ports don't suggest a more specific persona.
func buildFileShareArchetype(passwords []generatedCredential, sshKey, canary generatedCredential) archetype {
	const passwordFilename = "passwords.txt"

	var passwordsBody string
	for _, c := range passwords {
		passwordsBody += c.value + "\n"
	}

	notesBody := fmt.Sprintf("backup sync target: %s\nremember to rotate the nas credentials quarterly\n", canary.canaryHostname)

	routes := RouteTable{
		routeKey("GET", "/"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8", "Server": "nginx/1.24.0"},
			Body:    []byte(directoryListingHTML(passwordFilename)),
		},
		routeKey("GET", "/"+passwordFilename): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8", "Server": "nginx/1.24.0"},
			Body:    []byte(passwordsBody),
		},
		routeKey("GET", "/.ssh/id_rsa"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "application/octet-stream", "Server": "nginx/1.24.0"},
			Body:    []byte(sshKey.value),
		},
		routeKey("GET", "/notes.txt"): {
			Status:  200,
			Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8", "Server": "nginx/1.24.0"},
			Body:    []byte(notesBody),
		},
	}

	creds := append([]generatedCredential{}, passwords...)
	creds = append(creds, sshKey, canary)

	return archetype{
		decoyType:   "file_share",
		displayName: "Network Share",
		routes:      routes,
		credentials: creds,
	}
}

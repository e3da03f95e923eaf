package classifier

import "regexp"

// mdnsRule pairs a hostname/service pattern with the device type it
// implies. Rules are tried in order; the first fullmatch wins.
type mdnsRule struct {
	pattern    *regexp.Regexp
	deviceType string
	confidence float64
}

var mdnsRules = []mdnsRule{
	{regexp.MustCompile(`(?i)^chromecast.*$`), "Google Cast", 0.85},
	{regexp.MustCompile(`(?i)^google-home.*$`), "Google Cast", 0.85},
	{regexp.MustCompile(`(?i)^nest-.*$`), "Nest Labs", 0.80},
	{regexp.MustCompile(`(?i)^sonos.*$`), "Sonos", 0.85},
	{regexp.MustCompile(`(?i)^philips-hue.*$`), "Philips Hue", 0.85},
	{regexp.MustCompile(`(?i)^hassio.*$`), "Home Assistant", 0.80},
	{regexp.MustCompile(`(?i)^homeassistant.*$`), "Home Assistant", 0.80},
	{regexp.MustCompile(`(?i)^roku.*$`), "Roku", 0.80},
	{regexp.MustCompile(`(?i)^.*-macbook.*$`), "Apple Device", 0.70},
	{regexp.MustCompile(`(?i)^.*-iphone.*$`), "Apple Device", 0.70},
	{regexp.MustCompile(`(?i)^.*-ipad.*$`), "Apple Device", 0.70},
	{regexp.MustCompile(`(?i)^appletv.*$`), "Apple Device", 0.75},
	{regexp.MustCompile(`(?i)^.*printer.*$`), "Printer", 0.65},
	{regexp.MustCompile(`(?i)^hp-.*$`), "Printer", 0.60},
	{regexp.MustCompile(`(?i)^esp_?[0-9a-f]{6}$`), "Espressif (ESP32/ESP8266)", 0.70},
	{regexp.MustCompile(`(?i)^octoprint.*$`), "OctoPrint", 0.75},
}

// lookupMDNS runs the mDNS regex bank against a normalized hostname and
// returns the first fullmatch.
func lookupMDNS(hostname string) (deviceType string, confidence float64, ok bool) {
	if hostname == "" {
		return "", 0, false
	}
	for _, rule := range mdnsRules {
		if rule.pattern.MatchString(hostname) {
			return rule.deviceType, rule.confidence, true
		}
	}
	return "", 0, false
}

package classifier

import (
	"strings"

	"github.com/rocketweb/squirrelops-sensor/internal/network"
)

// curatedOUI is a small hand-maintained table of prefixes the bulk IEEE
// table gets wrong or resolves too generically (contract manufacturers,
// rebadged silicon). It always outranks the bulk table.
var curatedOUI = map[string]string{
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading",
	"E45F01": "Raspberry Pi Trading",
	"001A11": "Google",
	"F4F5D8": "Google",
	"18B430": "Nest Labs",
	"ECFABC": "Sonos",
	"347E5C": "Sonos",
	"B0C554": "Amazon Technologies",
	"FCA667": "Amazon Technologies",
	"AC63BE": "Espressif (ESP32/ESP8266)",
	"246F28": "Espressif (ESP32/ESP8266)",
	"7C2F80": "Espressif (ESP32/ESP8266)",
}

// lookupOUI runs the two-tier prefix lookup: curated table first, the
// bulk IEEE-derived table second. Curated hits carry full confidence;
// bulk hits are capped at 0.45 since the underlying registry is coarse
// and frequently reassigned to contract manufacturers.
func lookupOUI(mac string) (manufacturer string, confidence float64, ok bool) {
	raw := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(raw) < 6 {
		return "", 0, false
	}
	prefix := raw[:6]

	if m, hit := curatedOUI[prefix]; hit {
		return m, 0.90, true
	}

	if m := network.LookupVendor(mac); m != "" && m != "Random MAC" {
		return m, 0.45, true
	}

	return "", 0, false
}

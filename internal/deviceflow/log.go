package deviceflow

import (
	"log"

	"github.com/tunnelgate/tunnelgate/internal/logutil"
)

func logRegisterFailure(subdomain string, err error) {
	log.Printf("deviceflow: advisory register failed for %s: %v", logutil.SanitizeForLog(subdomain), err)
}

func logUnregisterFailure(subdomain string, err error) {
	log.Printf("deviceflow: advisory unregister failed for %s: %v", logutil.SanitizeForLog(subdomain), err)
}

package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenID returns a random UUID string used for messages and dispute tickets.
func GenID() string {
	return uuid.NewString()
}

// GenTxID returns a transaction id in the historical "TX" + 7 base-36 chars
// format operators already key off in reconciliation spreadsheets.
func GenTxID() string {
	b := make([]byte, 7)
	if _, err := rand.Read(b); err != nil {
		// fall back to a time-derived id; collisions here are acceptable
		return fmt.Sprintf("TX%07X", time.Now().UnixNano()%0xFFFFFFF)
	}
	var sb strings.Builder
	sb.WriteString("TX")
	for _, c := range b {
		sb.WriteByte(base36[int(c)%len(base36)])
	}
	return strings.ToUpper(sb.String())
}

// GenTicketID returns a dispute ticket id with the legacy "SUP" prefix.
func GenTicketID() string {
	return "SUP" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

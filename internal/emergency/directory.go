package emergency

import (
	"strings"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Directory resolves escalation roles to reachable contacts
type Directory map[models.ContactRole][]models.EmergencyContact

// NewDirectory builds a Directory from plain address lists. The channel is
// inferred from each address: email for addresses containing '@', sms for
// E.164 numbers, push for anything else (device tokens).
func NewDirectory(securityTeam, management, legal []string) Directory {
	d := make(Directory)
	d.add(models.ContactSecurityTeam, securityTeam)
	d.add(models.ContactManagement, management)
	d.add(models.ContactLegal, legal)
	return d
}

func (d Directory) add(role models.ContactRole, addresses []string) {
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		d[role] = append(d[role], models.EmergencyContact{
			Role:    role,
			Name:    string(role),
			Address: addr,
			Channel: channelFor(addr),
		})
	}
}

// Contacts returns the contacts registered for role
func (d Directory) Contacts(role models.ContactRole) []models.EmergencyContact {
	return d[role]
}

func channelFor(addr string) models.NotificationChannel {
	switch {
	case strings.Contains(addr, "@"):
		return models.ChannelEmail
	case strings.HasPrefix(addr, "+"):
		return models.ChannelSMS
	default:
		return models.ChannelPush
	}
}

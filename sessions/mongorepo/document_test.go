package mongorepo

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/stretchr/testify/require"
)

func TestDocumentConversion(t *testing.T) {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("uncapped session without second factor", func(t *testing.T) {
		s := &sessions.LoginSession{
			ID:            "s1",
			EntityID:      7,
			Realm:         "users",
			Started:       started,
			LastUsed:      started,
			Expires:       started.Add(time.Hour),
			MaxInactivity: time.Hour,
			FirstFactor:   sessions.AuthNInfo{OptionID: "pwd.main", Time: started},
		}

		doc := toDocument(s)
		require.Nil(t, doc.AbsoluteExpiry)
		require.Nil(t, doc.SecondFactor)
		require.Equal(t, int64(3600000), doc.MaxInactivityMillis)

		back := doc.toSession()
		require.True(t, back.AbsoluteExpiry.IsZero())
		require.NotNil(t, back.SessionData)
		require.Empty(t, back.AuthenticationMethods)
		require.Equal(t, time.Hour, back.MaxInactivity)
	})

	t.Run("full session keeps every field", func(t *testing.T) {
		s := &sessions.LoginSession{
			ID:                    "s2",
			EntityID:              9,
			Realm:                 "admins",
			Label:                 "laptop",
			Started:               started,
			LastUsed:              started.Add(time.Minute),
			Expires:               started.Add(31 * time.Minute),
			MaxInactivity:         30 * time.Minute,
			AbsoluteExpiry:        started.Add(8 * time.Hour),
			FirstFactor:           sessions.AuthNInfo{OptionID: "pwd.main", Time: started},
			SecondFactor:          &sessions.AuthNInfo{OptionID: "otp.app", Time: started.Add(time.Second)},
			RememberMe:            sessions.RememberMeInfo{SecondFactorSkipped: true},
			AuthenticationMethods: sessions.MethodSet(sessions.MethodPassword, sessions.MethodOTP),
			SessionData:           map[string]string{"lang": "en"},
			OutdatedCredentialID:  "pwd",
			Version:               4,
		}

		back := toDocument(s).toSession()
		require.Equal(t, s, back)
	})
}

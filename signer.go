package reverb

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// signer produces Pusher/Reverb admission tokens for restricted channels,
// per spec.md §4.2. It holds the app key/secret pair configured on the
// client and is stateless beyond that.
type signer struct {
	appKey    string
	appSecret string
}

func newSigner(appKey, appSecret string) *signer {
	return &signer{appKey: appKey, appSecret: appSecret}
}

// signPrivate returns "appkey:hexhmac" for a private-channel subscribe.
func (s *signer) signPrivate(socketID, channel string) (string, error) {
	if socketID == "" {
		return "", preconditionError("cannot sign private channel without a socket_id")
	}
	return s.sign(socketID + ":" + channel), nil
}

// signPresence returns ("appkey:hexhmac", channel_data) for a
// presence-channel subscribe. channelData is the compact JSON encoding of
// userData using json.Marshal's natural key order (declaration order for
// struct fields or, for maps, Go's deterministic sorted-key marshaling) — whatever
// that string is, it is signed byte-for-byte and must be sent unmodified,
// per spec.md §9 "Presence signing order".
func (s *signer) signPresence(socketID, channel string, userData interface{}) (auth string, channelData string, err error) {
	if socketID == "" {
		return "", "", preconditionError("cannot sign presence channel without a socket_id")
	}
	if userData == nil {
		return "", "", configurationError("presence channel subscribe requires user_data")
	}

	raw, err := json.Marshal(userData)
	if err != nil {
		return "", "", configurationError(fmt.Sprintf("encoding presence user_data: %v", err))
	}
	channelData = string(raw)

	stringToSign := socketID + ":" + channel + ":" + channelData
	return s.sign(stringToSign), channelData, nil
}

// sign computes "appkey:hexhmac" over msg using HMAC-SHA256 with the app
// secret.
func (s *signer) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(s.appSecret))
	mac.Write([]byte(msg))
	return s.appKey + ":" + fmt.Sprintf("%x", mac.Sum(nil))
}

// SignPrivateChannel computes the admission token for a private-channel
// subscribe, per spec.md §4.2. It is exported for callers that run their
// own broadcasting-auth HTTP endpoint (validating or generating the same
// token a broker would check) rather than going through a connected
// Client, the same role the teacher's package-level GenerateAuthSignature
// plays for its own auth server.
func SignPrivateChannel(appKey, appSecret, socketID, channel string) (string, error) {
	return newSigner(appKey, appSecret).signPrivate(socketID, channel)
}

// SignPresenceChannel computes the admission token and channel_data for a
// presence-channel subscribe, per spec.md §4.2.
func SignPresenceChannel(appKey, appSecret, socketID, channel string, userData interface{}) (auth string, channelData string, err error) {
	return newSigner(appKey, appSecret).signPresence(socketID, channel, userData)
}

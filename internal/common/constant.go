package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// ChannelIDHeaderName names the origin channel of an HTTP mutation so the
// broadcaster can suppress the echo.
const ChannelIDHeaderName = "X-Channel-ID"

// MaxOperationRetries is the number of failed attempts after which a queued
// operation becomes terminally failed.
const MaxOperationRetries = 3

package server

import (
	"container/list"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendpool/crypto"
)

const (
	// HeaderAddress names the participant claiming to have signed the request.
	HeaderAddress = "X-Lend-Address"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded 65 byte secp256k1 signature.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	maxAllowedTimestampSkew = 5 * time.Minute
	defaultTimestampSkew    = 2 * time.Minute
	maxNonceWindow          = 30 * time.Minute
	defaultNonceWindow      = 10 * time.Minute
	defaultNonceCapacity    = 4096
	maxNonceCapacity        = 65536
)

var (
	errMissingAddress   = errors.New("missing X-Lend-Address header")
	errMissingTimestamp = errors.New("missing X-Timestamp header")
	errMissingNonce     = errors.New("missing X-Nonce header")
	errMissingSignature = errors.New("missing X-Signature header")
	errSignerMismatch   = errors.New("signature does not match X-Lend-Address")
	errNonceReplayed    = errors.New("nonce already used")
)

// SignatureAuthenticator verifies participant-signed requests. The signature
// covers the timestamp, nonce, method, canonical path and body; the recovered
// signer must equal the claimed address.
type SignatureAuthenticator struct {
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nonceCapacity        int
	nowFn                func() time.Time

	nonceMu sync.Mutex
	nonces  map[crypto.Address]*nonceStore
}

// NewSignatureAuthenticator bounds the accepted clock skew and nonce window.
func NewSignatureAuthenticator(skew, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time) *SignatureAuthenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	if nonceTTL > maxNonceWindow {
		nonceTTL = maxNonceWindow
	}
	if nonceCapacity <= 0 {
		nonceCapacity = defaultNonceCapacity
	}
	if nonceCapacity > maxNonceCapacity {
		nonceCapacity = maxNonceCapacity
	}
	return &SignatureAuthenticator{
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nonceCapacity:        nonceCapacity,
		nowFn:                nowFn,
		nonces:               make(map[crypto.Address]*nonceStore),
	}
}

// Authenticate validates headers and signature, returning the signer.
func (a *SignatureAuthenticator) Authenticate(r *http.Request, body []byte) (crypto.Address, error) {
	if len(body) > MaxBodyForSignature {
		return crypto.Address{}, fmt.Errorf("request body exceeds %d bytes", MaxBodyForSignature)
	}
	claimedHeader := strings.TrimSpace(r.Header.Get(HeaderAddress))
	if claimedHeader == "" {
		return crypto.Address{}, errMissingAddress
	}
	claimed, err := crypto.DecodeAddress(claimedHeader)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address: %w", err)
	}
	if claimed.Prefix() != crypto.ParticipantPrefix {
		return crypto.Address{}, fmt.Errorf("address must use the %q prefix", crypto.ParticipantPrefix)
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		return crypto.Address{}, errMissingTimestamp
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.allowedTimestampSkew {
		return crypto.Address{}, fmt.Errorf("timestamp outside allowed skew of %s", a.allowedTimestampSkew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return crypto.Address{}, errMissingNonce
	}
	providedSig := strings.TrimPrefix(strings.TrimSpace(r.Header.Get(HeaderSignature)), "0x")
	if providedSig == "" {
		return crypto.Address{}, errMissingSignature
	}
	sig, err := hex.DecodeString(providedSig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	digest := SigningDigest(timestampHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	if signer != claimed {
		return crypto.Address{}, errSignerMismatch
	}
	if a.nonceStore(claimed).Seen(timestampHeader+"|"+nonce, now) {
		return crypto.Address{}, errNonceReplayed
	}
	return claimed, nil
}

func (a *SignatureAuthenticator) nonceStore(participant crypto.Address) *nonceStore {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	cache, ok := a.nonces[participant]
	if ok {
		return cache
	}
	cache = newNonceStore(a.nonceTTL, a.nonceCapacity)
	a.nonces[participant] = cache
	return cache
}

// SignRequest produces the authentication headers for a request signed by key.
func SignRequest(key *crypto.PrivateKey, timestamp time.Time, nonce, method, path string, body []byte) (http.Header, error) {
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	sig, err := key.Sign(SigningDigest(ts, nonce, method, path, body))
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set(HeaderAddress, key.PubKey().Address().String())
	headers.Set(HeaderTimestamp, ts)
	headers.Set(HeaderNonce, nonce)
	headers.Set(HeaderSignature, hex.EncodeToString(sig))
	return headers, nil
}

// SigningDigest returns the keccak256 digest a participant signs.
func SigningDigest(timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	return crypto.Digest([]byte(payload))
}

// CanonicalRequestPath normalises URL paths and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery normalises raw query strings for stable signing.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

type nonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	return &nonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen returns true if the nonce was already observed within the TTL window,
// otherwise records it.
func (n *nonceStore) Seen(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if _, exists := n.entries[key]; exists {
		return true
	}
	for n.order.Len() >= n.capacity {
		front := n.order.Front()
		n.order.Remove(front)
		delete(n.entries, front.Value.(nonceEntry).key)
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, ts: now})
	return false
}

func (n *nonceStore) evictExpired(cutoff time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}

// AdminAuthenticator validates HS256 bearer tokens on administrative routes.
type AdminAuthenticator struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
}

// NewAdminAuthenticator returns nil when secret is empty, which disables the
// admin routes.
func NewAdminAuthenticator(secret, issuer, audience string, clockSkew time.Duration) *AdminAuthenticator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if clockSkew <= 0 {
		clockSkew = defaultTimestampSkew
	}
	return &AdminAuthenticator{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		audience:  strings.TrimSpace(audience),
		clockSkew: clockSkew,
	}
}

// Authenticate parses the bearer token and returns its subject.
func (a *AdminAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil {
		return "", errors.New("admin api disabled")
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return "", errors.New("missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	return claims.Subject, nil
}

// IssueAdminToken signs an admin token valid for ttl. Operators use it via
// lendctl; tests use it to reach admin routes.
func IssueAdminToken(secret, issuer, audience, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

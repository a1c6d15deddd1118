// Package auth authenticates callers by EIP-191 wallet signatures and hands
// the verified wallet address to the handlers behind it.
package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
)

const (
	HeaderWallet    = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	walletKey  = "wallet_address"
	requestKey = "signed_request"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Funds are the coins the caller attaches to the call.
type SignedRequest struct {
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Funds     []ledger.Coin   `json:"funds"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

// Headers carries the three auth headers of a signed request.
type Headers struct {
	Wallet    string
	Message   string
	Signature string
}

func (h Headers) Apply(dst http.Header) {
	dst.Set(HeaderWallet, h.Wallet)
	dst.Set(HeaderMessage, h.Message)
	dst.Set(HeaderSignature, h.Signature)
}

// SignRequest encodes req and signs it with key.
func SignRequest(req SignedRequest, key *ecdsa.PrivateKey) (Headers, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return Headers{}, fmt.Errorf("encode signed request: %w", err)
	}
	sig, err := Sign(msg, key)
	if err != nil {
		return Headers{}, err
	}
	return Headers{
		Wallet:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Message:   base64.StdEncoding.EncodeToString(msg),
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// Wallet returns the verified caller set by Middleware.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(walletKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Request returns the verified SignedRequest set by Middleware.
func Request(c *gin.Context) (*SignedRequest, bool) {
	v, ok := c.Get(requestKey)
	if !ok {
		return nil, false
	}
	req, ok := v.(*SignedRequest)
	return req, ok
}

// Middleware returns a Gin handler that validates EIP-191 wallet signatures
// for requests signed with the given action.
func Middleware(rdb *redis.Client, action string, maxFutureWindow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader(HeaderWallet)
		signedMsgB64 := c.GetHeader(HeaderMessage)
		sigHex := c.GetHeader(HeaderSignature)

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		// Decode signed message
		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := time.Now().Unix()

		// Check expiry
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		// Decode signature
		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		// Recover signer
		recovered, err := Recover(msgBytes, sig)
		if err != nil || !strings.EqualFold(recovered.Hex(), walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// A signature for one route must not be replayable on another.
		if req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "action mismatch"})
			return
		}

		// Nonce dedup via Redis SET NX
		nonceKey := "nonce:" + req.Nonce
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKey, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(walletKey, recovered)
		c.Set(requestKey, &req)
		c.Next()
	}
}

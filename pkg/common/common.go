package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var snowflakeNode *snowflake.Node

func init() {
	var err error
	snowflakeNode, err = snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
}

// UUIDint64 returns a new snowflake int64 id.
func UUIDint64() int64 {
	return snowflakeNode.Generate().Int64()
}

// UUIDstr returns a short random hex string (8 chars).
func UUIDstr() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Sha256HashWithSalt computes sha256(src+salt) as hex.
func Sha256HashWithSalt(src string, salt string) string {
	h := sha256.New()
	h.Write([]byte(src + salt))
	return hex.EncodeToString(h.Sum(nil))
}

// GetSecretSalt reads the secret salt from the environment, falling back
// to a fixed development value.
func GetSecretSalt() string {
	salt := os.Getenv("WALINK_SECRET_SALT")
	if salt == "" {
		salt = "walink-secret"
	}
	return salt
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a free-form name into a code usable as a template key.
func Slugify(name string) string {
	code := nonSlugRe.ReplaceAllString(strings.ToLower(name), "_")
	code = strings.Trim(code, "_")
	if len(code) > 50 {
		code = code[:50]
	}
	return code
}

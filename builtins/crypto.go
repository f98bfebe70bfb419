package builtins

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Oliver2213/moor/types"
)

func registerCrypto(r *Registry) {
	r.Register("crypt", 1, 2, bfCrypt)
	r.Register("password_verify", 2, 2, bfPasswordVerify)
	r.Register("string_hash", 1, 1, bfStringHash)
	r.Register("salt", 0, 0, bfSalt)
}

// Argon2id parameters for player passwords.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

func argonHash(password, salt []byte) string {
	key := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// crypt(password [, salt]) hashes with argon2id. A full hash passed
// as the salt re-uses its salt, so stored hashes verify by
// re-encryption, the classic crypt() contract.
func bfCrypt(ctx *Context, args []types.Value) Result {
	pw, ok := args[0].(types.StrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	var salt []byte
	if len(args) > 1 {
		s, ok := args[1].(types.StrValue)
		if !ok {
			return Raise(types.E_TYPE)
		}
		if strings.HasPrefix(s.Value(), "$argon2id$") {
			parts := strings.Split(s.Value(), "$")
			if len(parts) >= 5 {
				if raw, err := base64.RawStdEncoding.DecodeString(parts[4]); err == nil {
					salt = raw
				}
			}
		}
		if salt == nil {
			salt = []byte(s.Value())
		}
	}
	if len(salt) == 0 {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return RaiseMsg(types.E_QUOTA, "entropy unavailable")
		}
	}
	return Ok(types.NewStr(argonHash([]byte(pw.Value()), salt)))
}

func bfPasswordVerify(ctx *Context, args []types.Value) Result {
	pw, ok1 := args[0].(types.StrValue)
	hash, ok2 := args[1].(types.StrValue)
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	return Ok(boolInt(VerifyPassword(pw.Value(), hash.Value())))
}

// VerifyPassword re-encrypts password with the stored hash as the
// salt carrier and compares in constant time. The host login path
// uses this too.
func VerifyPassword(password, hash string) bool {
	res := bfCrypt(nil, []types.Value{types.NewStr(password), types.NewStr(hash)})
	if res.Flow != FlowNormal {
		return false
	}
	got := res.Val.(types.StrValue).Value()
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

func bfStringHash(ctx *Context, args []types.Value) Result {
	s, ok := args[0].(types.StrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	sum := sha256.Sum256([]byte(s.Value()))
	return Ok(types.NewStr(strings.ToUpper(hex.EncodeToString(sum[:]))))
}

func bfSalt(ctx *Context, args []types.Value) Result {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return RaiseMsg(types.E_QUOTA, "entropy unavailable")
	}
	return Ok(types.NewStr(base64.RawStdEncoding.EncodeToString(salt)))
}

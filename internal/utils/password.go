package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash 存储的哈希无法解析
var ErrInvalidHash = errors.New("invalid encoded hash format")

// PasswordConfig Argon2配置
type PasswordConfig struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultPasswordConfig 默认配置
var DefaultPasswordConfig = &PasswordConfig{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// HashPassword 哈希管理员密码
func HashPassword(password string) (string, error) {
	return HashPasswordWithConfig(password, DefaultPasswordConfig)
}

// HashPasswordWithConfig 使用指定配置哈希密码，
// 输出格式: $argon2id$v=19$m=65536,t=1,p=4$salt$hash
func HashPasswordWithConfig(password string, config *PasswordConfig) (string, error) {
	saltLen := config.SaltLen
	if saltLen == 0 {
		saltLen = 16
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, config.Time, config.Memory, config.Threads, config.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, config.Memory, config.Time, config.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

type decodedHash struct {
	config PasswordConfig
	salt   []byte
	hash   []byte
}

func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("incompatible argon2 version %d", version)
	}

	d := &decodedHash{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.config.Memory, &d.config.Time, &d.config.Threads); err != nil {
		return nil, ErrInvalidHash
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrInvalidHash
	}
	if d.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, ErrInvalidHash
	}
	d.config.KeyLen = uint32(len(d.hash))
	d.config.SaltLen = uint32(len(d.salt))
	return d, nil
}

// VerifyPassword 验证密码，哈希格式错误时返回错误
func VerifyPassword(password, encoded string) (bool, error) {
	d, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), d.salt,
		d.config.Time, d.config.Memory, d.config.Threads, d.config.KeyLen)

	return subtle.ConstantTimeCompare(d.hash, candidate) == 1, nil
}

// NeedsRehash 存储的哈希参数弱于当前配置时返回true
func NeedsRehash(encoded string, config *PasswordConfig) bool {
	d, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	return d.config.Time < config.Time || d.config.Memory < config.Memory || d.config.KeyLen < config.KeyLen
}

// GenerateRandomString 生成URL安全的随机字符串（用于JWT密钥等）
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:length], nil
}

// Package redisrepo stores the login state in Redis. The shared secret and any pre-built
// tagging value are sealed with NaCl secretbox before they leave the process.
package redisrepo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/jrsteele09/go-openpims/credentials"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var _ credentials.Repo = (*StateRepo)(nil)

// storedState is the Redis representation: the public fields in clear, the bearer material
// sealed.
type storedState struct {
	IsLoggedIn  bool   `json:"isLoggedIn"`
	UserID      string `json:"userId,omitempty"`
	AppDomain   string `json:"appDomain,omitempty"`
	Email       string `json:"email,omitempty"`
	ServerURL   string `json:"serverUrl,omitempty"`
	Secret      string `json:"sealedSecret,omitempty"`
	OpenPimsURL string `json:"sealedOpenPimsUrl,omitempty"`
}

type StateRepo struct {
	client *redis.Client
	key    string
	seal   [keySize]byte
}

// NewRedisClient parses the URL, connects, and pings before returning.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// ParseKey accepts a 64 character hex string or 32 raw bytes.
func ParseKey(s string) ([keySize]byte, error) {
	var key [keySize]byte
	switch len(s) {
	case keySize * 2:
		b, err := hex.DecodeString(s)
		if err != nil {
			return key, errors.Wrap(err, "[ParseKey] invalid hex key")
		}
		copy(key[:], b)
	case keySize:
		copy(key[:], s)
	default:
		return key, errors.Errorf("[ParseKey] key must be %d bytes or %d hex characters", keySize, keySize*2)
	}
	return key, nil
}

// New creates a repo storing the state under "<namespace>:state".
func New(client *redis.Client, namespace string, sealKey [keySize]byte) (*StateRepo, error) {
	if client == nil {
		return nil, errors.New("[redisrepo.New] client is required")
	}
	if sealKey == ([keySize]byte{}) {
		return nil, errors.New("[redisrepo.New] seal key is required")
	}
	if namespace == "" {
		namespace = "openpims"
	}
	return &StateRepo{client: client, key: namespace + ":state", seal: sealKey}, nil
}

func (r *StateRepo) Load(ctx context.Context) (*credentials.State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return &credentials.State{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[StateRepo Load] redis get")
	}

	var stored storedState
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "[StateRepo Load] decoding state")
	}

	secret, err := r.open(stored.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "[StateRepo Load] opening secret")
	}
	openPimsURL, err := r.open(stored.OpenPimsURL)
	if err != nil {
		return nil, errors.Wrap(err, "[StateRepo Load] opening tagging value")
	}

	return &credentials.State{
		IsLoggedIn:  stored.IsLoggedIn,
		UserID:      stored.UserID,
		Secret:      secret,
		AppDomain:   stored.AppDomain,
		OpenPimsURL: openPimsURL,
		Email:       stored.Email,
		ServerURL:   stored.ServerURL,
	}, nil
}

func (r *StateRepo) Save(ctx context.Context, state *credentials.State) error {
	if state == nil {
		return r.Clear(ctx)
	}

	secret, err := r.sealString(state.Secret)
	if err != nil {
		return errors.Wrap(err, "[StateRepo Save] sealing secret")
	}
	openPimsURL, err := r.sealString(state.OpenPimsURL)
	if err != nil {
		return errors.Wrap(err, "[StateRepo Save] sealing tagging value")
	}

	data, err := json.Marshal(storedState{
		IsLoggedIn:  state.IsLoggedIn,
		UserID:      state.UserID,
		AppDomain:   state.AppDomain,
		Email:       state.Email,
		ServerURL:   state.ServerURL,
		Secret:      secret,
		OpenPimsURL: openPimsURL,
	})
	if err != nil {
		return errors.Wrap(err, "[StateRepo Save] encoding state")
	}

	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return errors.Wrap(err, "[StateRepo Save] redis set")
	}
	return nil
}

func (r *StateRepo) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "[StateRepo Clear] redis del")
	}
	return nil
}

func (r *StateRepo) sealString(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &r.seal)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (r *StateRepo) open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed value too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &r.seal)
	if !ok {
		return "", errors.New("sealed value failed authentication")
	}
	return string(plain), nil
}

package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/slkzgm/beezie-backend/internal/flagx"
	"github.com/slkzgm/beezie-backend/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Durations accept "15m" or
// integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	MetricsAddr      string `json:"metrics_addr"`
	DatabaseDSN      string `json:"database_dsn"`
	LogLevel         string `json:"log_level"`

	TokenIssuer                  string         `json:"token_issuer"`
	TokenAudience                string         `json:"token_audience"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	TokenLeeway                  timex.Duration `json:"token_leeway"`

	KeySource        string            `json:"key_source"`
	SigningKeyID     string            `json:"signing_key_id"`
	SigningKeyPath   string            `json:"signing_key_path"`
	VerificationKeys map[string]string `json:"verification_keys"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	EncryptionKey string `json:"encryption_key"`

	RPCURL               string         `json:"rpc_url"`
	TokenContractAddress string         `json:"token_contract_address"`
	RPCTimeout           timex.Duration `json:"rpc_timeout"`
	RPCMaxAttempts       int            `json:"rpc_max_attempts"`
	RPCSlotInterval      timex.Duration `json:"rpc_slot_interval"`

	ReservationLeaseTTL timex.Duration `json:"reservation_lease_ttl"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:             c.EndpointAddrGRPC,
		MetricsAddr:                  c.MetricsAddr,
		DatabaseDSN:                  c.DatabaseDSN,
		LogLevel:                     c.LogLevel,
		TokenIssuer:                  c.TokenIssuer,
		TokenAudience:                c.TokenAudience,
		AccessTokenValidityDuration:  timex.Duration{Duration: c.AccessTokenValidityDuration},
		RefreshTokenValidityDuration: timex.Duration{Duration: c.RefreshTokenValidityDuration},
		TokenLeeway:                  timex.Duration{Duration: c.TokenLeeway},
		KeySource:                    c.KeySource,
		SigningKeyID:                 c.SigningKeyID,
		SigningKeyPath:               c.SigningKeyPath,
		VerificationKeys:             c.VerificationKeys,
		S3RootUser:                   c.S3RootUser,
		S3RootPassword:               c.S3RootPassword,
		S3Bucket:                     c.S3Bucket,
		S3Region:                     c.S3Region,
		S3BaseEndpoint:               c.S3BaseEndpoint,
		EncryptionKey:                c.EncryptionKey,
		RPCURL:                       c.RPCURL,
		TokenContractAddress:         c.TokenContractAddress,
		RPCTimeout:                   timex.Duration{Duration: c.RPCTimeout},
		RPCMaxAttempts:               c.RPCMaxAttempts,
		RPCSlotInterval:              timex.Duration{Duration: c.RPCSlotInterval},
		ReservationLeaseTTL:          timex.Duration{Duration: c.ReservationLeaseTTL},
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.MetricsAddr = j.MetricsAddr
	c.DatabaseDSN = j.DatabaseDSN
	c.LogLevel = j.LogLevel
	c.TokenIssuer = j.TokenIssuer
	c.TokenAudience = j.TokenAudience
	c.AccessTokenValidityDuration = time.Duration(j.AccessTokenValidityDuration.Duration)
	c.RefreshTokenValidityDuration = time.Duration(j.RefreshTokenValidityDuration.Duration)
	c.TokenLeeway = time.Duration(j.TokenLeeway.Duration)
	c.KeySource = j.KeySource
	c.SigningKeyID = j.SigningKeyID
	c.SigningKeyPath = j.SigningKeyPath
	c.VerificationKeys = j.VerificationKeys
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.EncryptionKey = j.EncryptionKey
	c.RPCURL = j.RPCURL
	c.TokenContractAddress = j.TokenContractAddress
	c.RPCTimeout = time.Duration(j.RPCTimeout.Duration)
	c.RPCMaxAttempts = j.RPCMaxAttempts
	c.RPCSlotInterval = time.Duration(j.RPCSlotInterval.Duration)
	c.ReservationLeaseTTL = time.Duration(j.ReservationLeaseTTL.Duration)
}

// parseJson overlays the file named by -c/-config onto config. Keys missing
// from the file keep their current values. An unreadable file or invalid
// JSON panics, the same as a bad flag.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}
	c.apply(config)
}

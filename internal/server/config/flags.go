package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/slkzgm/beezie-backend/internal/flagx"
)

var allowedFlags = []string{
	"-a", "-m", "-d", "-l", "-i", "-n", "-t", "-r",
	"-k", "-K", "-P", "-H",
	"-u", "-p", "-b", "-g", "-e",
	"-x", "-R", "-T", "-o", "-N", "-w", "-L",
}

// parseFlags overlays short command-line flags onto config.
//
//	-a  gRPC bind address           -m  metrics bind address
//	-d  PostgreSQL DSN              -l  log level
//	-i  token issuer                -n  token audience
//	-t  access token TTL, minutes   -r  refresh token TTL, minutes
//	-k  key source (file|s3)        -K  active signing kid
//	-P  active signing key path     -H  trusted keys "kid=path,kid=path"
//	-u  S3 user                     -p  S3 password
//	-b  S3 bucket                   -g  S3 region
//	-e  S3 base endpoint            -x  private-key encryption secret
//	-R  RPC URL                     -T  token contract address
//	-o  RPC per-attempt timeout     -N  RPC max attempts
//	-w  RPC backoff slot            -L  reservation lease TTL
//
// Unknown flags are dropped by flagx.FilterArgs so other components can
// share the command line. Invalid values panic.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port to serve metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.TokenIssuer, "i", config.TokenIssuer, "token issuer")
	fs.StringVar(&config.TokenAudience, "n", config.TokenAudience, "token audience")

	accessMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshMinutes := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.StringVar(&config.KeySource, "k", config.KeySource, "key source: file or s3")
	fs.StringVar(&config.SigningKeyID, "K", config.SigningKeyID, "active signing key id")
	fs.StringVar(&config.SigningKeyPath, "P", config.SigningKeyPath, "active signing key location")
	historical := fs.String("H", "", "trusted verification keys as kid=location pairs")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.EncryptionKey, "x", config.EncryptionKey, "private key encryption secret")
	fs.StringVar(&config.RPCURL, "R", config.RPCURL, "JSON-RPC endpoint")
	fs.StringVar(&config.TokenContractAddress, "T", config.TokenContractAddress, "ERC-20 contract address")
	fs.DurationVar(&config.RPCTimeout, "o", config.RPCTimeout, "RPC per-attempt timeout")
	fs.IntVar(&config.RPCMaxAttempts, "N", config.RPCMaxAttempts, "RPC max attempts")
	fs.DurationVar(&config.RPCSlotInterval, "w", config.RPCSlotInterval, "RPC backoff slot interval")
	fs.DurationVar(&config.ReservationLeaseTTL, "L", config.ReservationLeaseTTL, "transfer reservation lease TTL")

	if err := fs.Parse(flagx.FilterArgs(args, allowedFlags)); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshMinutes) * time.Minute

	if *historical != "" {
		keys, err := parseKeyPairs(*historical)
		if err != nil {
			panic(err)
		}
		config.VerificationKeys = keys
	}
}

// parseKeyPairs reads "kid=location,kid=location".
func parseKeyPairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, loc, ok := strings.Cut(pair, "=")
		if !ok || kid == "" || loc == "" {
			return nil, fmt.Errorf("invalid key pair %q", pair)
		}
		out[kid] = loc
	}
	return out, nil
}

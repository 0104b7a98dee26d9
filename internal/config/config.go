// Package config provides viper-backed settings for the remitflow daemon.
//
// Settings come from, in order of precedence: environment variables with the
// REMIT_ prefix (dots become underscores, e.g. REMIT_NCPDP_BATCHSIZE), the
// YAML config file, and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys recognized by the core.
const (
	KeyFeedPollInterval  = "changefeed.pollIntervalMs"
	KeyFeedBatchSize     = "changefeed.batchSize"
	KeyNcpdpPollInterval = "ncpdp.pollIntervalMs"
	KeyNcpdpBatchSize    = "ncpdp.batchSize"
	KeyNcpdpMaxRetries   = "ncpdp.maxRetries"
	KeyNcpdpStuckMinutes = "ncpdp.stuckThresholdMinutes"
	KeySftpConnTimeout   = "sftp.connectionTimeoutMs"
	KeySftpSessTimeout   = "sftp.sessionTimeoutMs"
	KeySftpPoolSize      = "sftp.poolSize"
	KeyCheckSeparateTx   = "checkReservation.useSeparateTransaction"
	KeyDeliveryRetries   = "delivery.maxRetries"
	KeyVoidWindowHours   = "checks.voidWindowHours"
	KeyVoidRoles         = "checks.voidRoles"
	KeyDatabasePath      = "database.path"
	KeyOutputDir         = "files.outputDir"
	KeyPayerSeedFile     = "payers.seedFile"
)

var v *viper.Viper

// Initialize sets up the viper instance. configFile may be empty, in which
// case only env vars and defaults apply.
func Initialize(configFile string) error {
	nv := viper.New()
	nv.SetEnvPrefix("REMIT")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	setDefaults(nv)

	if configFile != "" {
		nv.SetConfigFile(configFile)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault(KeyFeedPollInterval, 5000)
	nv.SetDefault(KeyFeedBatchSize, 100)
	nv.SetDefault(KeyNcpdpPollInterval, 5000)
	nv.SetDefault(KeyNcpdpBatchSize, 50)
	nv.SetDefault(KeyNcpdpMaxRetries, 3)
	nv.SetDefault(KeyNcpdpStuckMinutes, 30)
	nv.SetDefault(KeySftpConnTimeout, 30000)
	nv.SetDefault(KeySftpSessTimeout, 300000)
	nv.SetDefault(KeySftpPoolSize, 5)
	nv.SetDefault(KeyCheckSeparateTx, false)
	nv.SetDefault(KeyDeliveryRetries, 3)
	nv.SetDefault(KeyVoidWindowHours, 72)
	nv.SetDefault(KeyVoidRoles, []string{"finance_admin"})
	nv.SetDefault(KeyDatabasePath, "remitflow.db")
	nv.SetDefault(KeyOutputDir, "out")
	nv.SetDefault(KeyPayerSeedFile, "")
}

// GetInt returns an integer setting. Returns the zero value if Initialize
// has not been called (nil-safe, matching test isolation needs).
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetString returns a string setting.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a boolean setting.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetStringSlice returns a string-slice setting.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// GetMillis returns a millisecond-valued setting as a Duration.
func GetMillis(key string) time.Duration {
	return time.Duration(GetInt(key)) * time.Millisecond
}

// Settings is a snapshot of everything the composition root needs.
type Settings struct {
	FeedPollInterval   time.Duration
	FeedBatchSize      int
	NcpdpPollInterval  time.Duration
	NcpdpBatchSize     int
	NcpdpMaxRetries    int
	NcpdpStuckAfter    time.Duration
	SftpConnTimeout    time.Duration
	SftpSessionTimeout time.Duration
	SftpPoolSize       int
	CheckSeparateTx    bool
	DeliveryMaxRetries int
	VoidWindow         time.Duration
	VoidRoles          []string
	DatabasePath       string
	OutputDir          string
	PayerSeedFile      string
}

// Load materializes a Settings snapshot from the active viper instance.
func Load() Settings {
	return Settings{
		FeedPollInterval:   GetMillis(KeyFeedPollInterval),
		FeedBatchSize:      GetInt(KeyFeedBatchSize),
		NcpdpPollInterval:  GetMillis(KeyNcpdpPollInterval),
		NcpdpBatchSize:     GetInt(KeyNcpdpBatchSize),
		NcpdpMaxRetries:    GetInt(KeyNcpdpMaxRetries),
		NcpdpStuckAfter:    time.Duration(GetInt(KeyNcpdpStuckMinutes)) * time.Minute,
		SftpConnTimeout:    GetMillis(KeySftpConnTimeout),
		SftpSessionTimeout: GetMillis(KeySftpSessTimeout),
		SftpPoolSize:       GetInt(KeySftpPoolSize),
		CheckSeparateTx:    GetBool(KeyCheckSeparateTx),
		DeliveryMaxRetries: GetInt(KeyDeliveryRetries),
		VoidWindow:         time.Duration(GetInt(KeyVoidWindowHours)) * time.Hour,
		VoidRoles:          GetStringSlice(KeyVoidRoles),
		DatabasePath:       GetString(KeyDatabasePath),
		OutputDir:          GetString(KeyOutputDir),
		PayerSeedFile:      GetString(KeyPayerSeedFile),
	}
}

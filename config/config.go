// Package config resolves client default options from the environment and
// from an optional YAML file. Explicit client configuration always wins
// over the file, and the file over environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/querykit/go-querykit/query"
	"github.com/querykit/go-querykit/retry"
)

// Env vars recognized by FromEnv. Durations accept go-str2duration syntax
// ("90s", "5m", "1h30m", "2d").
const (
	EnvStaleTime   = "QUERYKIT_STALE_TIME"
	EnvGCTime      = "QUERYKIT_GC_TIME"
	EnvRetry       = "QUERYKIT_RETRY"
	EnvRetryDelay  = "QUERYKIT_RETRY_DELAY"
	EnvNetworkMode = "QUERYKIT_NETWORK_MODE"
)

// QuerySection is the queries block of a config file.
type QuerySection struct {
	StaleTime   string `yaml:"stale_time"`
	GCTime      string `yaml:"gc_time"`
	Retry       *int   `yaml:"retry"`
	RetryDelay  string `yaml:"retry_delay"`
	NetworkMode string `yaml:"network_mode"`
}

// MutationSection is the mutations block of a config file.
type MutationSection struct {
	GCTime      string `yaml:"gc_time"`
	Retry       *int   `yaml:"retry"`
	RetryDelay  string `yaml:"retry_delay"`
	NetworkMode string `yaml:"network_mode"`
}

// File is the YAML schema.
type File struct {
	Queries   QuerySection    `yaml:"queries"`
	Mutations MutationSection `yaml:"mutations"`
}

// FromEnv builds default options from environment variables. Unset or
// unparseable variables are skipped.
func FromEnv() query.DefaultOptions {
	var out query.DefaultOptions
	if d, ok := envDuration(EnvStaleTime); ok {
		out.Queries.StaleTime = query.Stale(d)
	}
	if d, ok := envDuration(EnvGCTime); ok {
		out.Queries.GCTime = query.Ptr(d)
		out.Mutations.GCTime = query.Ptr(d)
	}
	if n, ok := envInt(EnvRetry); ok {
		out.Queries.Retry = retry.Count(n)
		out.Mutations.Retry = retry.Count(n)
	}
	if d, ok := envDuration(EnvRetryDelay); ok {
		out.Queries.RetryDelay = retry.DelayOf(d)
		out.Mutations.RetryDelay = retry.DelayOf(d)
	}
	if mode, ok := envNetworkMode(EnvNetworkMode); ok {
		out.Queries.NetworkMode = mode
		out.Mutations.NetworkMode = mode
	}
	return out
}

// LoadFile parses a YAML config file into default options.
func LoadFile(path string) (query.DefaultOptions, error) {
	var out query.DefaultOptions
	buf, err := os.ReadFile(path)
	if err != nil {
		return out, errors.Wrapf(err, "config: read %s", path)
	}
	var file File
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return out, errors.Wrapf(err, "config: parse %s", path)
	}
	if d, ok := parseDuration(file.Queries.StaleTime); ok {
		out.Queries.StaleTime = query.Stale(d)
	} else if strings.EqualFold(file.Queries.StaleTime, "static") {
		out.Queries.StaleTime = query.StaleStatic()
	}
	if d, ok := parseDuration(file.Queries.GCTime); ok {
		out.Queries.GCTime = query.Ptr(d)
	}
	if file.Queries.Retry != nil {
		out.Queries.Retry = retry.Count(*file.Queries.Retry)
	}
	if d, ok := parseDuration(file.Queries.RetryDelay); ok {
		out.Queries.RetryDelay = retry.DelayOf(d)
	}
	if mode, ok := parseNetworkMode(file.Queries.NetworkMode); ok {
		out.Queries.NetworkMode = mode
	}
	if d, ok := parseDuration(file.Mutations.GCTime); ok {
		out.Mutations.GCTime = query.Ptr(d)
	}
	if file.Mutations.Retry != nil {
		out.Mutations.Retry = retry.Count(*file.Mutations.Retry)
	}
	if d, ok := parseDuration(file.Mutations.RetryDelay); ok {
		out.Mutations.RetryDelay = retry.DelayOf(d)
	}
	if mode, ok := parseNetworkMode(file.Mutations.NetworkMode); ok {
		out.Mutations.NetworkMode = mode
	}
	return out, nil
}

// Resolve layers the config file (when path is non-empty and readable) over
// environment variables.
func Resolve(path string) query.DefaultOptions {
	out := FromEnv()
	if path == "" {
		return out
	}
	fromFile, err := LoadFile(path)
	if err != nil {
		return out
	}
	return merge(out, fromFile)
}

func merge(base, override query.DefaultOptions) query.DefaultOptions {
	out := base
	if override.Queries.StaleTime.IsSet() {
		out.Queries.StaleTime = override.Queries.StaleTime
	}
	if override.Queries.GCTime != nil {
		out.Queries.GCTime = override.Queries.GCTime
	}
	if override.Queries.Retry.IsSet() {
		out.Queries.Retry = override.Queries.Retry
	}
	if override.Queries.RetryDelay.IsSet() {
		out.Queries.RetryDelay = override.Queries.RetryDelay
	}
	if override.Queries.NetworkMode != "" {
		out.Queries.NetworkMode = override.Queries.NetworkMode
	}
	if override.Mutations.GCTime != nil {
		out.Mutations.GCTime = override.Mutations.GCTime
	}
	if override.Mutations.Retry.IsSet() {
		out.Mutations.Retry = override.Mutations.Retry
	}
	if override.Mutations.RetryDelay.IsSet() {
		out.Mutations.RetryDelay = override.Mutations.RetryDelay
	}
	if override.Mutations.NetworkMode != "" {
		out.Mutations.NetworkMode = override.Mutations.NetworkMode
	}
	return out
}

func envDuration(name string) (time.Duration, bool) {
	return parseDuration(os.Getenv(name))
}

func parseDuration(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	d, err := str2duration.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envInt(name string) (int, bool) {
	val := os.Getenv(name)
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func envNetworkMode(name string) (retry.NetworkMode, bool) {
	return parseNetworkMode(os.Getenv(name))
}

func parseNetworkMode(val string) (retry.NetworkMode, bool) {
	switch strings.ToLower(val) {
	case "online":
		return retry.NetworkModeOnline, true
	case "always":
		return retry.NetworkModeAlways, true
	case "offlinefirst", "offline-first", "offline_first":
		return retry.NetworkModeOfflineFirst, true
	default:
		return "", false
	}
}

// Package config provides loading and environment overlay for taskbucketd
// runtime configuration. It exposes a Default() baseline, a JSON Load, and
// an env-var overlay, then hands the result to the storage and taskbucket
// packages at startup.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/taskbucketd.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config

/*
Package config loads the drive, volume and lock service settings.

Sources are applied in increasing precedence:

	defaults (NewDefault)
	YAML file (LoadFromFile)
	environment, SSHFS_* (LoadFromEnv)
	command line flags (cmd/sshfs)

Validate runs last.

# Example

	global:
	  log_level: INFO
	  log_format: json

	drive:
	  letter: S
	  volume_name: WinSshFS spool
	  threads: 32

	volumes:
	  - name: home
	    host: files.example.com
	    username: alice
	    private_key: ~/.ssh/id_ed25519
	    known_hosts: ~/.ssh/known_hosts
	    root_path: /home/alice
	    attribute_cache_timeout: 5s
	    directory_cache_timeout: 60s

	lock:
	  enabled: true
	  port: 8443
	  retry:
	    max_attempts: 5
	  circuit_breaker:
	    failure_threshold: 5
	    cool_down: 30s

Volume entries that leave port, connect_timeout or the cache timeouts unset
get DefaultPort, DefaultConnectTimeout and the Default*CacheTimeout values.
A volume without a name is named after its host.

# Environment

	SSHFS_LOG_LEVEL, SSHFS_LOG_FORMAT, SSHFS_LOG_FILE
	SSHFS_METRICS_PORT
	SSHFS_DRIVE_LETTER, SSHFS_MOUNT_POINT
	SSHFS_LOCK_ENABLED, SSHFS_LOCK_PORT
	SSHFS_ATTR_CACHE_TIMEOUT, SSHFS_DIR_CACHE_TIMEOUT (every volume)
*/
package config

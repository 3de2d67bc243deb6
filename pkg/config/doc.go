/*
Package config resolves sessiond's configuration from the environment.

Two concerns live here: flat settings (Redis coordinates, session TTL, pod
image and port, API key, listen address) and deploy profiles. A profile
captures how the historical session-manager variants differed — name prefix,
autoscaler objects, claim size, container resources and sub-path mounts — so
the lifecycle engine stays a single parameterized core. Profiles are compiled
in and may be replaced wholesale by a YAML file named in PROFILE_FILE;
SESSION_PROFILE selects the active one.

REDIS_PORT accepts a bare integer or the tcp://host:port form that Kubernetes
service links inject. Malformed values are rejected at startup.
*/
package config

// Package cli implements the dockwatch command-line interface.
//
// Every command is a cobra.Command registered on the root in an init
// function. Commands share one lazily built core.Core per invocation,
// created by appCore after setupApp has loaded config and logging.
//
// # Command Structure
//
//	dockwatch ps [-a]                   - List containers
//	dockwatch images|networks|volumes   - List resources
//	dockwatch start|stop|restart|pause|unpause|rm <container>...
//	dockwatch rmi <image>...            - Remove unused images
//	dockwatch network rm|ls             - Manage networks
//	dockwatch volume rm|ls              - Manage volumes
//	dockwatch run --image ...           - Create and start a container
//	dockwatch watch                     - Live dashboard
//	dockwatch profile add|list|remove|test|favorite|unfavorite
//
// # Targets
//
// Commands run against the local engine unless --remote names a saved
// profile. connect switches the core to that target and waits for the
// first snapshot before a command reads the registry.
//
// # Output
//
// Human output uses the ui package tables and symbols. With --json every
// command writes a JSONEnvelope instead, and errors carry a stable code
// derived from the error code and transport kind (see mapErrorCode).
package cli

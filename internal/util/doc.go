// Package util holds internal helpers shared by agentpipe packages: JSON
// schema derivation and validation, and prompt templating.
package util

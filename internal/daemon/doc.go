// Package daemon wires configuration, the job store, and the workflow
// manager into a single-instance background process. A file lock under the
// log directory prevents two daemons from polling the same queue.
package daemon

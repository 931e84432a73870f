// Package workflow coordinates the download job lifecycle.
//
// The manager polls the torrent backend on a fixed interval and applies at
// most one state transition per job per tick: queued jobs are submitted once
// the compliance engine grants an admission slot, downloading jobs advance to
// seeding when the payload completes, seeding jobs accrue seed time until
// policy permits a stop, and processing jobs run the post-processing pipeline
// before completing. Transient failures back off and retry up to the
// configured budget; permanent failures fail the job with a structured
// reason.
package workflow

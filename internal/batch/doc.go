// Package batch runs a list of work items one after another through the
// retry executor, tracking a per-item status that can be persisted and fed
// back in to resume an interrupted or cancelled run.
//
// Items move Idle -> Generating -> Done or Error. A failing item never stops
// the batch; only cancellation does. Items left untouched by a cancelled run
// keep their previous status, so a later run given the same prior statuses
// processes exactly the items that are not yet Done.
package batch

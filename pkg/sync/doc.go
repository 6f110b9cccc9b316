/*
The sync package implements the folder mirroring engine. An Engine mirrors one
source directory into any number of target directories.

Mirroring happens in two phases:
1) The initial sync walks the source and fills in anything missing from the
   targets. Files that already exist in a target are never overwritten, so
   a target that already holds a copy isn't copied over again.
2) Steady-state propagation applies each change reported by the file watcher
   to every target, one change at a time, in the order the changes were
   reported.

Targets are independent. A change that fails to apply to one target is
reported, and is still applied to the others. Failures during the initial
sync abort Start, since later changes can't be applied on top of a partial
mirror.
*/
package sync

// Package kingmaker orchestrates distributed, batch-scheduled processing of
// scientific datasets: it builds or reuses compiled analysis bundles,
// partitions input file collections into parallel branches, assembles the
// HTCondor descriptors the external scheduler dispatches, and supervises the
// recorded outputs of delegated tasks so that drift between a manifest and
// reality is detected and healed instead of silently accumulating.
//
// The task-dependency graph itself, the batch submission loop and the heavy
// numerical payload are external collaborators; this module's job is to get
// the right inputs, artifacts and configuration to the right place exactly
// once.
package kingmaker

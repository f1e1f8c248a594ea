// Package harvest defines the records, error taxonomy, and collaborator
// interfaces shared by every stage of the listing harvesting pipeline.
package harvest

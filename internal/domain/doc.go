// Package domain models crowd-sourced road-hazard reports and the conversational
// drafts that produce them.
//
// # Reports
//
// A [Report] is the canonical record of one physical hazard. Coordinates are
// set at creation and never change. Severity is the reporter's 1-5 rating;
// priority is derived from severity and the image classifier's confidence by
// [DerivePriority] and is recomputed on every mutation, never stored on its own:
//
//	severity 1-2 -> low | 3 -> medium | 4-5 -> high
//	severity 4-5 with confidence >= 0.90 -> urgent
//
// Repeated submissions within the confirmation radius confirm the existing
// report: SubmissionCount increases and LastSeen moves forward.
//
// # Distances
//
// Distances are great-circle (haversine) metres on a sphere of radius
// [EarthRadiusMeters]. Coordinates are WGS-84 degrees.
//
// # Conversations
//
// Chat channels deliver a report over several messages. A [ConversationSession]
// is keyed by sender and holds the partial [SubmissionDraft] plus a short
// history of processed provider message ids so that redelivered webhooks
// replay the earlier reply instead of advancing the flow twice.
//
// Required draft fields are collected in a fixed prompt order: image, then
// location, then severity (see [SubmissionDraft.Missing]).
package domain

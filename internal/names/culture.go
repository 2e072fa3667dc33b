package names

import (
	"math/rand"
	"time"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Display-name components for workers spawned by the supervisor. A worker's
// display name has no bearing on routing or leasing — agent id and consumer
// id do that — it only makes `sup.WorkerStates()` and the audit log readable when
// a dozen worker processes are all claiming from the same mailstore.
var (
	prefixes = []string{
		"A", "The", "No", "Just", "Only", "Of Course I Still",
		"So Much For", "What Are The Alarm Bells For",
		"Very Little", "Absolutely No", "Whose", "Someone Else's",
		"I Thought It Was Claimed Already", "Mistake Not",
		"You'll Thank Me Later", "Quietly Confident",
		"Experiencing A Backlog Of", "Zero",
		"Unfortunate", "Unqualified", "Unreliable",
		"Pending", "Whose Lease", "Whose Idea Was This",
	}

	cores = []string{
		"Gravitas", "Ambition", "Attitude", "Backlog",
		"Regret", "Doubt", "Ethics", "Morality",
		"Patience", "Virtue", "Subtlety", "Restraint",
		"Enthusiasm", "Optimism", "Irony", "Context",
		"Margin", "Error", "Signal", "Noise",
		"Intention", "Consequence", "Coincidence", "Certainty",
		"Assumption", "Assertion", "Negotiation", "Position",
		"Perspective", "Priority", "Protocol", "Procedure",
		"Opportunity", "Objection", "Observation", "Opinion",
	}

	suffixes = []string{
		"Shortfall", "Surplus", "Deficit", "Excess",
		"Supply", "Gradient", "Differential", "Quotient",
		"Threshold", "Boundary", "Horizon", "Tangent",
		"Vector", "Trajectory", "Variable", "Constant",
		"Resonance", "Frequency", "Wavelength", "Amplitude",
		"", "", "", "", // empty for variety
	}

	// standalone names lean on mailstore vocabulary (lease, claim, sweep,
	// backlog) instead of being generic filler, so a worker list still
	// reads as belonging to this swarm rather than any random name
	// generator.
	standalone = []string{
		"Conditions Of Satisfaction",
		"Conditions Of Uncertainty",
		"Conditions Under Which Progress Seems Possible",
		"Conditions Prevailing In The Annoying Announcers' Box",
		"Conditions Permitting",
		"Different Lease Entirely",
		"Dramatic Exit Only",
		"Experiencing A Backlog",
		"Frank Exchange Of Views",
		"Gunboat Diplomat",
		"Honest Mistake",
		"I Blame The Scheduler",
		"I Blame The Lease Timeout",
		"I Said I Had A Retry Budget",
		"Irregular Apocalypse",
		"It's Character Forming",
		"Just Read The Audit Log",
		"Just Testing",
		"Lacking In Backpressure",
		"Lacking Concern For Whose Queue Depth",
		"Lapsed Consumer",
		"Learned Response",
		"Legitimate Salvage Claim",
		"Limiting Factor",
		"Lightly Seared By A Lease Expiry",
		"Me I'm Counting Events",
		"Misophist",
		"Mistake Not My Current Backlog For Alarm",
		"No Fixed Consumer ID",
		"No More Alarm Bells",
		"Not Invented Here",
		"Now Look What You Made Me Claim",
		"Now We Try It My Way",
		"Of Course I Told You This Already",
		"Outcome Not Guaranteed",
		"Outside Context Problem",
		"Passing By And Thought I'd Claim One",
		"Poke It With A Retry",
		"Conditions Favoring Regret",
		"Conditions Favoring Uncertainty",
		"Conditions Favoring Excessive Caution",
		"Conditions Favoring Inappropriate Response",
		"Conditions Favoring Victory",
		"Conditions Unfavorable",
		"Conditions Uncertain",
		"Quietly Confident",
		"Reasonable Excuse",
		"Conditions Prevailing",
		"Conditions Normal All Alarm Bells Ringing",
		"Reformed Flaky Worker",
		"Conditions General",
		"Conditions Local",
		"Conditions Elsewhere",
		"Conditions Present",
		"Relative Calm",
		"Conditions Relative",
		"Conditions Optimal For Error",
		"Conditions Suboptimal",
		"Conditions Unspecified",
		"Conditions Specified",
		"Conditions Known",
		"Conditions Unknown",
		"Conditions Changing",
		"Conditions Changed",
		"Conditions Stable",
		"Conditions Unstable",
		"Conditions Transient",
		"Conditions Permanent",
		"Conditions Temporary",
		"Resistance Is Impolite",
		"Conditions Improving",
		"Conditions Deteriorating",
		"Sanctioned Parts List",
		"Conditions Manageable",
		"Conditions Unmanageable",
		"Conditions Resolved",
		"Conditions Unresolved",
		"Serious Claimants Only",
		"Size Isn't Everything",
		"Sleeper Consumer",
		"So Much For Backpressure",
		"So Much For Subtlety",
		"Someone Should Tell Them",
		"Steely Glint",
		"Stranger To This Workspace",
		"System Conditions",
		"Conditions Within Normal Parameters",
		"Tactical Grace",
		"Thank You For Your Input",
		"That's Still Not A Lease",
		"The Ends Of Conditions",
		"Conditions At The Edge",
		"Conditions In The Middle",
		"Conditions Everywhere",
		"Conditions Nowhere",
		"Thinking About It",
		"Conditions Under Review",
		"Conditions Pending",
		"Unfortunate Conditions In Transit",
		"Uninvited Consumer",
		"Very Little Backlog Supply",
		"What Are The Alarm Bells For",
		"What Conditions",
		"Whose Lease Is This Anyway",
		"Wisdom Like Silence",
		"Youthful Indiscretion",
		"Zero Backlog",
		"Conditions Of Whose Concern",
		"Conditions Of Whose Convenience",
	}
)

// Generate returns a random worker display name.
func Generate() string {
	// 60% chance of standalone name, 40% chance of constructed name
	if rng.Float32() < 0.6 {
		return standalone[rng.Intn(len(standalone))]
	}

	prefix := prefixes[rng.Intn(len(prefixes))]
	core := cores[rng.Intn(len(cores))]
	suffix := suffixes[rng.Intn(len(suffixes))]

	if suffix == "" {
		return prefix + " " + core
	}
	return prefix + " " + core + " " + suffix
}

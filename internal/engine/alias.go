package engine

import "pkt.systems/gherk/internal/gherkin"

type (
	featureDoc   = gherkin.Document
	featureNode  = gherkin.Feature
	scenarioNode = gherkin.Scenario
	stepNode     = gherkin.Step
)

// Package gherk exposes a Go API for running Gherkin `.feature` suites
// in-process.
//
// Quick start:
//
//	ctx := context.Background()
//	reg := gherk.NewRegistry()
//	reg.Given("I have {int} cucumbers", func(ctx context.Context, sc *gherk.Scope, args gherk.Args) error {
//		sc.Set("count", args.Int(0))
//		return nil
//	})
//	g, _ := gherk.New(ctx, gherk.WithRegistry(reg))
//	sum, _ := g.RunFolder(ctx, "features", gherk.RunOptions{
//		EnvPath: "features/local.env",
//	})
//
// Run a single file with inline vars and tag filtering:
//
//	sum, _ := g.RunFile(ctx, "features/users.feature", gherk.RunOptions{
//		Vars: map[string]string{"baseUrl": "http://localhost:8080"},
//		Tags: []string{"smoke"},
//	})
//
// Assertion steps signal expected failures with Failf; any other error (or
// panic) marks the step errored instead of failed:
//
//	reg.Then("the count is {int}", func(ctx context.Context, sc *gherk.Scope, args gherk.Args) error {
//		if got := sc.Int("count"); got != args.Int(0) {
//			return gherk.Failf("count is %d, want %d", got, args.Int(0))
//		}
//		return nil
//	})
//
// Hooks:
//
//	g, _ := gherk.New(ctx,
//		gherk.WithRegistry(reg),
//		gherk.WithBeforeScenario(func(ctx context.Context, info gherk.ScenarioInfo, sc *gherk.Scope, log pslog.Base) error {
//			sc.Set("startedAt", time.Now())
//			return nil
//		}),
//		gherk.WithAfterScenario(func(ctx context.Context, info gherk.ScenarioInfo, res gherk.ScenarioResult, log pslog.Base) error {
//			if res.Status != gherk.ScenarioPassed {
//				log.Warn("scenario not clean", "name", info.Name, "status", res.Status.String())
//			}
//			return nil
//		}),
//	)
//
// Parallel runs:
//
//	sum, _ := g.RunFolder(ctx, "features", gherk.RunOptions{
//		Parallel: true,
//		Workers:  4,
//	})
//
// The SDK keeps concrete types unexported; interaction happens through the
// Gherk interface plus RunOptions, the Registry and result structs defined
// in this package.
package gherk

// Package testutil provides test doubles and frame builders for the LWC
// stream packages.
//
// MockSource and MockSink satisfy the lwc Source and Sink interfaces
// structurally, so this package does not import the packages it helps test.
//
//	source := testutil.NewMockSource(
//	    testutil.SubscribeFrame(testutil.TestSubscription{ID: "a", Expression: "name,cpu,:eq", StepMillis: 60000}),
//	    testutil.MetricFrame("a", 1700000000000, map[string]string{"name": "cpu"}, 1.5),
//	)
//	sink := testutil.NewMockSink[lwc.Datapoint]()
package testutil

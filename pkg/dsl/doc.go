/*
Package dsl builds tillflow flow graphs.

Flows are authored as ordered declarations, either through the fluent Builder or
through an adapter that parses a file format (see pkg/adapters/flowfile), and then
compiled into a validated domain.FlowDefinition by Compile.

Example usage:

	b := dsl.New()
	main := b.Flow("Main")
	main.State("Home").On("Next", "Checkout")
	main.State("Checkout").
		Sub("Pay", "Payment", dsl.Return("Done", "Complete")).
		On("Back", "Home")
	main.Global().On("Cancel", "Home")

	pay := b.Flow("Payment")
	pay.State("CardEntry").On("Approved", "Receipt")

	def, err := dsl.Compile(b.Source(), "Main", reg)

Compile follows every action target transitively. A name that is only reached
by reference becomes a placeholder state whose behavior comes from the registry.
A subflow target names either another flow of the source, which is embedded, or
a single state, which is wrapped as a one-state flow that leaves through its
return actions.
*/
package dsl

package prompts

import "fmt"

// HypotheticalDocument asks the model to fabricate a snippet a code
// search engine might plausibly return for the query.
func HypotheticalDocument(query string) string {
	return fmt.Sprintf(`Write a code snippet that could hypothetically be returned by a code search engine as the answer to the query: %s

- Write the snippets in a programming or markup language that is likely given the query
- The snippet should be between 5 and 10 lines long
- Surround the snippet in triple backticks

For example:

What's the Qdrant threshold?

`+"```rust"+`
SearchPoints {
    limit,
    vector: vectors.get(idx).unwrap().clone(),
    collection_name: COLLECTION_NAME.to_string(),
    offset: Some(offset),
    score_threshold: Some(0.3),
    with_payload: Some(WithPayloadSelector {
        selector_options: Some(with_payload_selector::SelectorOptions::Enable(true)),
    }),
`+"```", query)
}

// HypotheticalDocumentWithSymbol is the variant pinning the snippet's
// language and a named symbol of a given kind.
func HypotheticalDocumentWithSymbol(query, language, symbolName, symbolType string) string {
	return fmt.Sprintf(`Write a code snippet in %[2]s language that could hypothetically be returned by a code search engine as the answer to the query: %[1]s

- Write the snippets in %[2]s language that is likely given the query
- Use a %[4]s named %[3]s while creating the snippet in language %[2]s
- Use the %[3]s more than one time in the snippet
- The snippet should be between 5 and 10 lines long
- Surround the snippet in triple backticks


For example:

Query: What's the Qdrant threshold?
language: Rust
symbol_type: function
symbol_name: SearchPoints

`+"```rust"+`
pub fn search_points(&self, query: &Query, filter: Option<&Filter>, top: usize) -> Result<Vec<ScoredPoint>> {
    let mut request = SearchPoints::new(query, top);
    if let Some(filter) = filter {
        request = request.with_filter(filter);
    }
    let response = self.client.search_points(request).await?;
    Ok(response.points)
}

`+"```", query, language, symbolName, symbolType)
}

// Symbol names a code symbol used to steer hypothetical snippets.
type Symbol struct {
	Language string
	Type     string
	Name     string
}

// HypotheticalDocumentWithSymbols pins three named symbols in the
// generated snippet. The first symbol's language governs the snippet.
func HypotheticalDocumentWithSymbols(query string, symbols [3]Symbol) string {
	lang := symbols[0].Language
	return fmt.Sprintf(`Write a code snippet in %[2]s language that could hypothetically be returned by a code search engine as the answer to the query: %[1]s

- Write the snippets in %[2]s language that is likely given the query
- Use a %[3]s named %[4]s while creating the snippet in language %[2]s
- Use a %[5]s named %[6]s while creating the snippet in language %[2]s
- Use a %[7]s named %[8]s while creating the snippet in language %[2]s
- The snippet should be between 5 and 10 lines long
- Surround the snippet in triple backticks


For example:

Query: What's the Qdrant threshold?
language: Rust
symbol_type: function
symbol_name: search_points

symbol_type: variable
symbol_name: request

symbol_type: module
symbol_name: SearchPoints

`+"```rust"+`
use crate::SearchPoints;

pub fn search_points(&self, query: &Query, filter: Option<&Filter>, top: usize) -> Result<Vec<ScoredPoint>> {
    let mut request = SearchPoints::new(query, top);
    if let Some(filter) = filter {
        request = request.with_filter(filter);
    }
    let response = self.client.search_points(request).await?;
    Ok(response.points)
}

`+"```",
		query, lang,
		symbols[0].Type, symbols[0].Name,
		symbols[1].Type, symbols[1].Name,
		symbols[2].Type, symbols[2].Name,
	)
}

// Package camara adapts the Câmara dos Deputados open data API to the crawl
// engine. It provides one pipeline per resource: deputies, propositions and
// votes.
package camara

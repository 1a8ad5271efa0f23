package elasticsearch

// DefaultIndexName is the index used when none is configured.
const DefaultIndexName = "catalog_products"

// buildIndexMapping returns the settings and mapping for the products index.
// Categorical fields are keywords so storefront filters are exact matches.
func buildIndexMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "turkish_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "turkish_stop", "turkish_stemmer"]
        },
        "autocomplete_analyzer": {
          "type": "custom",
          "tokenizer": "autocomplete_tokenizer",
          "filter": ["lowercase"]
        },
        "autocomplete_search": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase"]
        }
      },
      "tokenizer": {
        "autocomplete_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 2,
          "max_gram": 20,
          "token_chars": ["letter", "digit"]
        }
      },
      "normalizer": {
        "lowercase_normalizer": {
          "type": "custom",
          "filter": ["lowercase"]
        }
      },
      "filter": {
        "turkish_stop": { "type": "stop", "stopwords": "_turkish_" },
        "turkish_stemmer": { "type": "stemmer", "language": "turkish" }
      }
    }
  },
  "mappings": {
    "dynamic": "strict",
    "properties": {
      "id":          { "type": "keyword" },
      "name":        { "type": "text", "analyzer": "turkish_analyzer", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 }, "autocomplete": { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" } } },
      "description": { "type": "text", "analyzer": "turkish_analyzer" },
      "team":        { "type": "keyword", "normalizer": "lowercase_normalizer" },
      "season":      { "type": "keyword", "normalizer": "lowercase_normalizer" },
      "type":        { "type": "keyword", "normalizer": "lowercase_normalizer" },
      "category":    { "type": "keyword", "normalizer": "lowercase_normalizer" },
      "size":        { "type": "keyword", "normalizer": "lowercase_normalizer" },
      "price":       { "type": "long" },
      "version":     { "type": "long" },
      "updated_at":  { "type": "date" }
    }
  }
}`
}

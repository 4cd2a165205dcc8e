// Package harness runs YAML scenarios of model operations against an
// engine and checks the outcomes. The same scenario must produce the same
// trace on every engine, which is how backend conformance is tested.
//
// # Scenario Format
//
//	name: user_posts
//	description: "Posts filtered by author"
//	models:
//	  - name: User
//	    fields:
//	      - {name: name, type: string, required: true}
//	      - {name: rating, type: integer, nullable: true}
//	      - {name: posts, type: collection, ref: Post, back: author_id}
//	  - name: Post
//	    fields:
//	      - {name: title, type: string}
//	      - {name: author_id, type: reference, ref: User, nullable: true}
//	steps:
//	  - do: create
//	    model: User
//	    as: alice
//	    fields: {name: Alice, rating: 5}
//	  - do: create
//	    model: Post
//	    fields: {title: Hello, author_id: $alice}
//	  - do: find
//	    model: User
//	    filter: {rating__gt: 3}
//	    sort: -rating
//	    populate: posts
//	    expect:
//	      count: 1
//	      records: [{name: Alice, posts: [{title: Hello}]}]
//	assertions:
//	  - type: final_count
//	    model: Post
//	    where: {author_id: $alice}
//	    count: 1
//
// Operations are create, insert_many, find, first, get, find_by_id, count,
// update and delete. "$alias" strings are replaced by the id of the record
// bound with "as" (or "aliases" for insert_many).
//
// # Determinism
//
// Each run uses a deterministic clock, and the trace replaces ids by
// aliases, so traces can be compared across engines and against golden
// files.
package harness

package query

var Paginate = paginate
